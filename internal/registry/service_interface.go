package registry

// Service is the interface for background services started after boot.
type Service interface {
	Start() error
	Stop() error
}
