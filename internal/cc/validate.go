package cc

// RequireMinLength fails with a PayloadTooShort DecodeError if payload holds
// fewer than n bytes. Every decoder calls it before indexed access.
func RequireMinLength(payload []byte, n int) error {
	if len(payload) < n {
		return &DecodeError{Kind: KindPayloadTooShort, Need: n, Got: len(payload)}
	}
	return nil
}
