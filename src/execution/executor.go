package execution

import "github.com/Blackdeer1524/RelDB/src/pkg/common"

// Column describes one attribute of a produced row.
type Column struct {
	Name string
	Type string
}

// Schema is the shape of the rows an executor yields.
type Schema struct {
	Columns []Column
}

// Tuple is an uninterpreted row payload; the schema gives it meaning.
type Tuple struct {
	Data []byte
}

// Executor is the iterator contract every plan node implements. The planner
// builds the tree top-down; parents own their children and drive them
// through this interface.
//
//	Init resets the executor so Next starts from the beginning.
//	Next yields the next row and its RID, reporting false at end-of-stream.
type Executor interface {
	Init()
	Next(tuple *Tuple, rid *common.RID) bool
	GetOutputSchema() *Schema
}
