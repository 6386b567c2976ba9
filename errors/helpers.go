package errors

// WrapOpComponent wraps err with consistent Op and Component propagation,
// preserving the Code and Retryable flag of a nested SyncError.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Op, component string) error {
	if err == nil {
		return nil
	}
	return &SyncError{
		Op:        op,
		Component: component,
		Code:      codeOf(err),
		Retryable: IsRetryable(err),
		Err:       err,
	}
}
