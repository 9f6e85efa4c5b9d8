// Package rollback provides a small LIFO compensating-action registry used
// by pkg/controller to unwind partially-created resources when a
// multi-step operation fails partway through.
package rollback
