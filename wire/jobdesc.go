package wire

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables consulted by CurrentJob. PROXY_JOB_ID always wins
// so containers and test harnesses can pin the job identity; the SLURM
// and PMIx variables cover the common launcher setups.
const (
	EnvJobID     = "PROXY_JOB_ID"
	EnvSlurmJob  = "SLURM_JOBID"
	EnvPMIxID    = "PMIX_ID"
	EnvSlurmStep = "SLURM_STEP_ID"
	EnvSlurmN    = "SLURM_NTASKS"
	EnvOMPISize  = "OMPI_COMM_WORLD_SIZE"

	envNodeList  = "SLURM_JOB_NODELIST"
	envPartition = "SLURM_JOB_PARTITION"
	envCluster   = "SLURM_CLUSTER_NAME"
)

// CurrentJob describes the job the calling process runs in. Outside a
// scheduler allocation most fields come back empty and the size defaults
// to one; the jobid is then left blank and the collector files the stream
// under a node-local job.
func CurrentJob() JobDesc {
	jobid := firstEnv(EnvJobID, EnvSlurmJob, EnvPMIxID)
	if step, ok := os.LookupEnv(EnvSlurmStep); ok {
		jobid += "-" + step
	}
	// PMIx appends the rank after a dot; strip it so every rank of the
	// job reports the same identity.
	if i := strings.IndexByte(jobid, '.'); i >= 0 {
		jobid = jobid[:i]
	}

	size := 1
	if v := firstEnv(EnvSlurmN, EnvOMPISize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			size = n
		}
	}

	wd, _ := os.Getwd()

	return JobDesc{
		JobID:     jobid,
		Command:   strings.Join(os.Args, " "),
		Size:      size,
		NodeList:  os.Getenv(envNodeList),
		Partition: os.Getenv(envPartition),
		Cluster:   os.Getenv(envCluster),
		RunDir:    wd,
		StartTime: uint64(time.Now().Unix()),
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return v
		}
	}
	return ""
}
