package storage

import "context"

type tenantKey struct{}

// SetTenant scopes ctx to tenantID. Stores stamp new records with it and
// only list records it can see.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant ctx is scoped to, or "" in single-tenant
// mode.
func GetTenant(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey{}).(string)
	return tenantID
}

// Visible reports whether a record owned by ownerID may be read from ctx.
// An unscoped context sees every tenant's records.
func Visible(ctx context.Context, ownerID string) bool {
	tenantID := GetTenant(ctx)
	return tenantID == "" || tenantID == ownerID
}
