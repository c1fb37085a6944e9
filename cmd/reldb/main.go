package main

import (
	"fmt"
	"log"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/RelDB/src/app"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/txns"
)

func main() {
	root := &cobra.Command{
		Use:   "reldb",
		Short: "RelDB storage engine",
	}
	root.AddCommand(demoCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func demoCmd() *cobra.Command {
	var rows int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Exercise the hash index and the lock manager end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.NewEngine(afero.NewOsFs())
			if err != nil {
				return err
			}
			engine.Start()
			defer func() {
				if closeErr := engine.Close(); closeErr != nil {
					log.Printf("close: %v", closeErr)
				}
			}()

			for i := 0; i < rows; i++ {
				rid := common.RID{PageID: common.PageID(i / 64), SlotNum: uint16(i % 64)}
				if _, err := engine.Index.Insert(uint64(i), rid); err != nil {
					return err
				}
			}

			txn := engine.TxnManager.Begin(txns.RepeatableRead)
			for i := 0; i < rows; i++ {
				rid := common.RID{PageID: common.PageID(i / 64), SlotNum: uint16(i % 64)}
				if err := engine.LockManager.LockShared(txn, rid); err != nil {
					return err
				}

				values, err := engine.Index.GetValue(uint64(i))
				if err != nil {
					return err
				}
				if len(values) != 1 || values[0] != rid {
					return fmt.Errorf("lookup mismatch for key %d: %v", i, values)
				}
			}
			engine.TxnManager.Commit(txn)

			depth, err := engine.Index.GetGlobalDepth()
			if err != nil {
				return err
			}
			fmt.Printf("inserted and verified %d rows, global depth %d\n", rows, depth)
			return engine.Index.VerifyIntegrity()
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 1000, "number of rows to insert")
	return cmd
}
