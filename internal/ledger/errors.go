package ledger

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountRetired    = errors.New("account is retired")
	ErrReservedID        = errors.New("account id is reserved")
	ErrNegativeAmount    = errors.New("amount must be non-negative")
	ErrSameAccount       = errors.New("payer and payee are the same account")
	ErrInvalidKind       = errors.New("unknown transaction kind")
	ErrInvalidTier       = errors.New("unknown tier")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDebtCeiling       = errors.New("debt ceiling breached")
	ErrChecksumMismatch  = errors.New("transaction checksum mismatch")
	ErrLedgerLocked      = errors.New("ledger is locked by another writer")
	ErrClosed            = errors.New("ledger is closed")
)
