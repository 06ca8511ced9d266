package errors

// ErrorCode is a stable string identifier for an error category. Codes are
// grouped by prefix: COMMON_* for generic failures, MOL_* for the structure
// engine, STORE_* for persisted databases.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeCanceled           ErrorCode = "COMMON_017"
)

// Structure engine error codes.
const (
	ErrCodeMoleculeNotFound      ErrorCode = "MOL_004"
	ErrCodeMoleculeAlreadyExists ErrorCode = "MOL_005"
	ErrCodeInvalidGraph          ErrorCode = "MOL_016"
	ErrCodeDisconnectedGraph     ErrorCode = "MOL_017"
	ErrCodeTopologyMismatch      ErrorCode = "MOL_018"
	ErrCodeInvalidCAS            ErrorCode = "MOL_019"
	ErrCodeInvalidElement        ErrorCode = "MOL_020"
	ErrCodeMolfileParse          ErrorCode = "MOL_021"
)

// Binary database error codes.
const (
	ErrCodeTooManyRecords ErrorCode = "STORE_001"
	ErrCodeBucketOverflow ErrorCode = "STORE_002"
	ErrCodeCorruptStore   ErrorCode = "STORE_003"
	ErrCodeBlobNotFound   ErrorCode = "STORE_004"
	ErrCodeLockNotHeld    ErrorCode = "STORE_005"
)

// Short aliases used at call sites.
const (
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
)

var codeMessages = map[ErrorCode]string{
	ErrCodeInternal:              "internal error",
	ErrCodeBadRequest:            "invalid parameter",
	ErrCodeNotFound:              "not found",
	ErrCodeConflict:              "conflict",
	ErrCodeServiceUnavailable:    "service unavailable",
	ErrCodeTimeout:               "timeout",
	ErrCodeValidation:            "validation failed",
	ErrCodeSerialization:         "serialization failed",
	ErrCodeDatabaseError:         "database error",
	ErrCodeCacheError:            "cache error",
	ErrCodeCanceled:              "operation canceled",
	ErrCodeMoleculeNotFound:      "molecule not found",
	ErrCodeMoleculeAlreadyExists: "molecule already exists",
	ErrCodeInvalidGraph:          "invalid molecular graph",
	ErrCodeDisconnectedGraph:     "molecular graph is not connected",
	ErrCodeTopologyMismatch:      "atom correspondence could not be established",
	ErrCodeInvalidCAS:            "invalid CAS registry number",
	ErrCodeInvalidElement:        "unknown element",
	ErrCodeMolfileParse:          "molfile parse error",
	ErrCodeTooManyRecords:        "too many records for the binary format",
	ErrCodeBucketOverflow:        "bucket offset exceeds 16 bits",
	ErrCodeCorruptStore:          "binary database is corrupt",
	ErrCodeBlobNotFound:          "blob not found",
	ErrCodeLockNotHeld:           "publish lock not held",
}

// DefaultMessage returns the generic message for code, or "unknown error".
func DefaultMessage(code ErrorCode) string {
	if m, ok := codeMessages[code]; ok {
		return m
	}
	return "unknown error"
}
