package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `envconfig:"RELDB_ENV" default:"dev"`

	DataDir       string `envconfig:"RELDB_DATA_DIR" default:"./data"`
	PoolSize      uint64 `envconfig:"RELDB_POOL_SIZE" default:"64"`
	NumInstances  uint32 `envconfig:"RELDB_POOL_INSTANCES" default:"4"`
	FlushInterval uint32 `envconfig:"RELDB_FLUSH_INTERVAL_SECONDS" default:"30"`
}

func mustLoadEnv() envVars {
	// .env is optional; real environments configure through the process env.
	_ = godotenv.Load()

	var env envVars
	if err := envconfig.Process("", &env); err != nil {
		panic(err)
	}
	return env
}
