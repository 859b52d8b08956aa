package metadata

/** Definition for the body of a job. A non-nil error marks the job as failed. */
type JobStart func() error

/** Definition for completion of a job. */
type JobOnComplete func()

/** Definition for failure of a job. Receives the error returned by the entry point. */
type JobOnFailure func(error)

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific thread requirements.
	 * This means it matters little which job thread this job runs on.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief A resource loading job. Decoding and importing from disk.
	 */
	JOB_TYPE_RESOURCE_LOAD JobType = 0x04
	/**
	 * @brief Jobs recording and submitting transfer work to the GPU.
	 */
	JOB_TYPE_GPU_RESOURCE JobType = 0x08
)

func (t JobType) String() string {
	switch t {
	case JOB_TYPE_RESOURCE_LOAD:
		return "resource_load"
	case JOB_TYPE_GPU_RESOURCE:
		return "gpu_resource"
	default:
		return "general"
	}
}

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Unique identifier of the job, used in logs. */
	ID string
	/** @brief Human readable name, usually the asset being processed. */
	Name string
	/** @brief The type of job. */
	JobType JobType
	/** @brief Invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked when the job successfully completes. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked when the job fails. Optional. */
	OnFailure JobOnFailure
	/** @brief Invoked after either OnComplete or OnFailure. Optional. */
	OnCompletionCallback func()
}
