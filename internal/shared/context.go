// Package shared holds cross-cutting primitives used by every domain module:
// the operation context, audit logging, idempotency keys and pagination.
package shared

import "context"

// Operation carries the identity and scope of the caller performing a
// mutation. It is passed explicitly so no ambient global supplies the actor
// or the warehouses the actor may touch.
type Operation struct {
	ActorID    int64
	CompanyID  int64
	Warehouses []int64
}

// CanAccessWarehouse reports whether the operation may touch the given
// warehouse. An empty scope means unrestricted access.
func (op Operation) CanAccessWarehouse(warehouseID int64) bool {
	if len(op.Warehouses) == 0 {
		return true
	}
	for _, id := range op.Warehouses {
		if id == warehouseID {
			return true
		}
	}
	return false
}

type operationContextKey struct{}

// ContextWithOperation stores the operation in context. The identity
// collaborator's middleware installs it for every request.
func ContextWithOperation(ctx context.Context, op Operation) context.Context {
	return context.WithValue(ctx, operationContextKey{}, op)
}

// OperationFromContext extracts the operation from context. The zero value
// is returned when no operation was installed.
func OperationFromContext(ctx context.Context) Operation {
	op, _ := ctx.Value(operationContextKey{}).(Operation)
	return op
}
