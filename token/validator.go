package token

import "time"

// Check reports why token is not acceptable for expectedSubject right now,
// or nil when it is. The comparison of subjects is exact and case-sensitive.
func (c *Codec) Check(tokenString, expectedSubject string) error {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return err
	}
	return claims.Verify(expectedSubject, c.now())
}

// Validate reports whether token carries a valid signature, names
// expectedSubject and has not expired. It never panics or returns an error;
// every failure yields false.
func (c *Codec) Validate(tokenString, expectedSubject string) bool {
	return c.Check(tokenString, expectedSubject) == nil
}

// Verify checks already decoded claims against expectedSubject at now.
func (c *Claims) Verify(expectedSubject string, now time.Time) error {
	if c.Subject == "" || c.Subject != expectedSubject {
		return ErrSubjectMismatch
	}
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	return nil
}
