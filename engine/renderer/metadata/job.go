package metadata

/** @brief Invoked on a worker with the task input. Required. */
type JobStart func(input interface{}) (interface{}, error)

/** @brief Invoked with the result when a job succeeds. */
type JobOnComplete func(result interface{})

/** @brief Invoked with the error when a job fails. */
type JobOnFailure func(err error)

/**
 * @brief Describes a job to be run by the job system.
 */
type JobTask struct {
	/** @brief Used in log lines only. */
	Name string
	/** @brief Data passed to OnStart. */
	InputParams interface{}
	OnStart     JobStart
	/** @brief Optional. */
	OnComplete JobOnComplete
	/** @brief Optional. */
	OnFailure JobOnFailure
	/** @brief Optional, always invoked last whatever the outcome. */
	OnCompletionCallback func()
}
