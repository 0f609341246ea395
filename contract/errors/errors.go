package errors

// Error codes for the application framework. Keep stable; used across adapters,
// the worker, the registry and components.
const (
	ErrCodeWorkerUnavailable     = "appfw.worker_unavailable"
	ErrCodeDuplicateRegistration = "appfw.duplicate_registration"
	ErrCodeConnectFailed         = "appfw.connect_failed"
	ErrCodeBindFailed            = "appfw.bind_failed"
	ErrCodeStaleJobTarget        = "appfw.stale_job_target"
	ErrCodeNotOnWorker           = "appfw.not_on_worker"
	ErrCodeQueueFull             = "appfw.queue_full"
	ErrCodeJobPanicked           = "appfw.job_panicked"
	ErrCodeInvalidBusName        = "appfw.invalid_bus_name"
	ErrCodeEndpointClosed        = "appfw.endpoint_closed"
	ErrCodeNotConnected          = "appfw.not_connected"
	ErrCodeHandlerNotFound       = "appfw.handler_not_found"
	ErrCodeTransportConfig       = "appfw.transport_config"
	ErrCodeInvalidConfig         = "appfw.invalid_config"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrWorkerUnavailable     = Code(ErrCodeWorkerUnavailable)
	ErrDuplicateRegistration = Code(ErrCodeDuplicateRegistration)
	ErrConnectFailed         = Code(ErrCodeConnectFailed)
	ErrBindFailed            = Code(ErrCodeBindFailed)
	ErrStaleJobTarget        = Code(ErrCodeStaleJobTarget)
	ErrNotOnWorker           = Code(ErrCodeNotOnWorker)
	ErrQueueFull             = Code(ErrCodeQueueFull)
	ErrJobPanicked           = Code(ErrCodeJobPanicked)
	ErrInvalidBusName        = Code(ErrCodeInvalidBusName)
	ErrEndpointClosed        = Code(ErrCodeEndpointClosed)
	ErrNotConnected          = Code(ErrCodeNotConnected)
	ErrHandlerNotFound       = Code(ErrCodeHandlerNotFound)
	ErrTransportConfig       = Code(ErrCodeTransportConfig)
	ErrInvalidConfig         = Code(ErrCodeInvalidConfig)
)
