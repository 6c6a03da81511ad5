package common

import "context"

type userKey struct{}

// WithUserID returns a context carrying the authenticated subject.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

// UserID reports the authenticated subject. The second return is false for
// unauthenticated contexts and for an empty subject.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}
