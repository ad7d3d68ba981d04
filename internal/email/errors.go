package email

import "errors"

var (
	// ErrPermanent marks a delivery failure that retrying cannot fix,
	// such as a malformed address or a rejected recipient.
	ErrPermanent = errors.New("email: permanent delivery failure")

	ErrSendTimeout = errors.New("email: send timed out")
)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
