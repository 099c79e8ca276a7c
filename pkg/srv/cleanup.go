package srv

import "context"

// cleanupService participates in the service lifecycle for resources that
// only need an orderly release on shutdown, like database handles.
type cleanupService struct {
	cleanup func() error
}

func (c *cleanupService) Start(ctx context.Context) error {
	return nil
}

func (c *cleanupService) Shutdown(ctx context.Context) error {
	if c.cleanup != nil {
		return c.cleanup()
	}
	return nil
}

// NewCleanup wraps fn as a shutdown-only Service.
func NewCleanup(fn func() error) Service {
	return &cleanupService{cleanup: fn}
}
