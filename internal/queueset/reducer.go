package queueset

import "github.com/smukkama/gearmand/internal/job"

// ReducerPartitioner decides what payload a GRAB_JOB_ALL worker receives
// for a reduce job. spec.md §9 leaves the partitioning policy an open
// question and asks only that the data model support it; this interface
// makes the policy pluggable without touching the dispatcher.
type ReducerPartitioner interface {
	Partition(j *job.Job) []byte
}

// SingleWorkerPartitioner is the default policy: the whole payload goes to
// whichever worker grabs the job first. Reduce jobs that genuinely need
// fan-out across a worker set require a partitioner aware of the reducer
// group's membership, which this package does not track.
type SingleWorkerPartitioner struct{}

func (SingleWorkerPartitioner) Partition(j *job.Job) []byte {
	return j.Payload
}
