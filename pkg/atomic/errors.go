package atomic

import "fmt"

var (
	ErrNotFound      = fmt.Errorf("atomic: source not found")
	ErrWriteFailed   = fmt.Errorf("atomic: write failed")
	ErrValidation    = fmt.Errorf("atomic: validation rejected content")
	ErrDepthExceeded = fmt.Errorf("atomic: max copy depth exceeded")
	ErrRollback      = fmt.Errorf("atomic: rollback step failed")
	ErrTxDone        = fmt.Errorf("atomic: transaction already completed")
)
