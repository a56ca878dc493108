package dataflow

import "context"

type Repository interface {
	CreateReceived(ctx context.Context, r *ReceivedInformation) error
	ListByReference(ctx context.Context, careContextReference string) ([]*ReceivedInformation, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*ReceivedInformation, error)
}
