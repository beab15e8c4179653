// Package apperrors provides unified error handling for the service layer
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized     ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken     ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired     ErrorCode = "AUTH_1003"
	ErrCodeInvalidSignature ErrorCode = "AUTH_1004"

	// Authorization errors (2xxx)
	ErrCodeForbidden         ErrorCode = "AUTHZ_2001"
	ErrCodeInsufficientFunds ErrorCode = "AUTHZ_2002"
	ErrCodeOwnershipRequired ErrorCode = "AUTHZ_2003"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeBlockchainError   ErrorCode = "SVC_5003"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// Cryptographic errors (6xxx)
	ErrCodeEncryptionFailed   ErrorCode = "CRYPTO_6001"
	ErrCodeDecryptionFailed   ErrorCode = "CRYPTO_6002"
	ErrCodeSigningFailed      ErrorCode = "CRYPTO_6003"
	ErrCodeVerificationFailed ErrorCode = "CRYPTO_6004"

	// TEE errors (7xxx)
	ErrCodeAttestationFailed ErrorCode = "TEE_7001"
	ErrCodeSealingFailed     ErrorCode = "TEE_7002"
	ErrCodeUnsealingFailed   ErrorCode = "TEE_7003"

	// Request-shape errors, literal wire codes per the error taxonomy.
	ErrCodeUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodePayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeInvalidJSON          ErrorCode = "INVALID_JSON"
	ErrCodeMissingField         ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFieldType     ErrorCode = "INVALID_FIELD_TYPE"
	ErrCodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	ErrCodeMethodNotAllowed     ErrorCode = "METHOD_NOT_ALLOWED"

	// Cryptographic errors, literal wire codes.
	ErrCodeInvalidJWS             ErrorCode = "INVALID_JWS"
	ErrCodeBase64Invalid          ErrorCode = "BASE64_INVALID"
	ErrCodeSignatureLengthInvalid ErrorCode = "SIGNATURE_LENGTH_INVALID"
	ErrCodeSignatureMismatch      ErrorCode = "SIGNATURE_MISMATCH"
	ErrCodeInvalidPublicKey       ErrorCode = "INVALID_PUBLIC_KEY"
	ErrCodeInvalidName            ErrorCode = "INVALID_NAME"

	// Authorization / agent-registry errors.
	ErrCodeFORBIDDEN       ErrorCode = "FORBIDDEN"
	ErrCodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	ErrCodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeAccountExists   ErrorCode = "ACCOUNT_EXISTS"
	ErrCodePublicKeyExists ErrorCode = "PUBLIC_KEY_EXISTS"

	// Ledger/escrow domain errors.
	ErrCodeInsufficientFundsDomain ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeEscrowNotFound          ErrorCode = "ESCROW_NOT_FOUND"
	ErrCodeEscrowAlreadyResolved   ErrorCode = "ESCROW_ALREADY_RESOLVED"
	ErrCodeTaskEscrowExists        ErrorCode = "TASK_ESCROW_EXISTS"

	// Task/bid domain errors.
	ErrCodeTaskNotFound       ErrorCode = "TASK_NOT_FOUND"
	ErrCodeInvalidTaskStatus  ErrorCode = "INVALID_TASK_STATUS"
	ErrCodeDuplicateBid       ErrorCode = "DUPLICATE_BID"
	ErrCodeBidNotFound        ErrorCode = "BID_NOT_FOUND"
	ErrCodeDeadlinePassed     ErrorCode = "DEADLINE_PASSED"

	// Dispute/feedback domain errors.
	ErrCodeDisputeNotFound           ErrorCode = "DISPUTE_NOT_FOUND"
	ErrCodeDisputeAlreadyExists      ErrorCode = "DISPUTE_ALREADY_EXISTS"
	ErrCodeDisputeAlreadyRuled       ErrorCode = "DISPUTE_ALREADY_RULED"
	ErrCodeInvalidDisputeStatus      ErrorCode = "INVALID_DISPUTE_STATUS"
	ErrCodeRebuttalAlreadySubmitted  ErrorCode = "REBUTTAL_ALREADY_SUBMITTED"
	ErrCodeFeedbackAlreadySubmitted  ErrorCode = "FEEDBACK_ALREADY_SUBMITTED"

	// Downstream component unavailability.
	ErrCodeIdentityUnavailable   ErrorCode = "IDENTITY_UNAVAILABLE"
	ErrCodeLedgerUnavailable     ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeBoardUnavailable      ErrorCode = "BOARD_UNAVAILABLE"
	ErrCodeReputationUnavailable ErrorCode = "REPUTATION_UNAVAILABLE"
	ErrCodeCourtUnavailable      ErrorCode = "COURT_UNAVAILABLE"
	ErrCodeJudgeUnavailable      ErrorCode = "JUDGE_UNAVAILABLE"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication Errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "Invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "Authentication token has expired", http.StatusUnauthorized)
}

func InvalidSignature(err error) *ServiceError {
	return Wrap(ErrCodeInvalidSignature, "Invalid signature", http.StatusUnauthorized, err)
}

// Authorization Errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func InsufficientFunds(required, available string) *ServiceError {
	return New(ErrCodeInsufficientFunds, "Insufficient funds", http.StatusPaymentRequired).
		WithDetails("required", required).
		WithDetails("available", available)
}

func OwnershipRequired(resource string) *ServiceError {
	return New(ErrCodeOwnershipRequired, "Ownership verification required", http.StatusForbidden).
		WithDetails("resource", resource)
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "Invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource Errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "Resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service Errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func BlockchainError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeBlockchainError, "Blockchain operation failed", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "External API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Cryptographic Errors

func EncryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeEncryptionFailed, "Encryption failed", http.StatusInternalServerError, err)
}

func DecryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeDecryptionFailed, "Decryption failed", http.StatusInternalServerError, err)
}

func SigningFailed(err error) *ServiceError {
	return Wrap(ErrCodeSigningFailed, "Signing failed", http.StatusInternalServerError, err)
}

func VerificationFailed(err error) *ServiceError {
	return Wrap(ErrCodeVerificationFailed, "Verification failed", http.StatusUnauthorized, err)
}

// TEE Errors

func AttestationFailed(err error) *ServiceError {
	return Wrap(ErrCodeAttestationFailed, "Remote attestation failed", http.StatusInternalServerError, err)
}

func SealingFailed(err error) *ServiceError {
	return Wrap(ErrCodeSealingFailed, "Data sealing failed", http.StatusInternalServerError, err)
}

func UnsealingFailed(err error) *ServiceError {
	return Wrap(ErrCodeUnsealingFailed, "Data unsealing failed", http.StatusInternalServerError, err)
}

// Request-shape errors

func UnsupportedMediaType(got string) *ServiceError {
	return New(ErrCodeUnsupportedMediaType, "unsupported content type", http.StatusUnsupportedMediaType).
		WithDetails("content_type", got)
}

func PayloadTooLarge(maxBytes int64) *ServiceError {
	return New(ErrCodePayloadTooLarge, "request body exceeds the configured limit", http.StatusRequestEntityTooLarge).
		WithDetails("max_bytes", maxBytes)
}

func InvalidJSON(err error) *ServiceError {
	return Wrap(ErrCodeInvalidJSON, "request body is not valid JSON", http.StatusBadRequest, err)
}

func MissingField(field string) *ServiceError {
	return New(ErrCodeMissingField, "missing required field", http.StatusBadRequest).
		WithDetails("field", field)
}

func InvalidFieldType(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFieldType, "field has the wrong type", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func InvalidPayload(reason string) *ServiceError {
	return New(ErrCodeInvalidPayload, reason, http.StatusBadRequest)
}

func MethodNotAllowed(method string) *ServiceError {
	return New(ErrCodeMethodNotAllowed, "method not allowed", http.StatusMethodNotAllowed).
		WithDetails("method", method)
}

// Cryptographic errors

func InvalidJWS(reason string) *ServiceError {
	return New(ErrCodeInvalidJWS, reason, http.StatusBadRequest)
}

func Base64Invalid(field string) *ServiceError {
	return New(ErrCodeBase64Invalid, "field is not valid url-safe base64", http.StatusBadRequest).
		WithDetails("field", field)
}

func SignatureLengthInvalid(expected, got int) *ServiceError {
	return New(ErrCodeSignatureLengthInvalid, "signature has the wrong length", http.StatusBadRequest).
		WithDetails("expected_bytes", expected).
		WithDetails("actual_bytes", got)
}

// SignatureMismatch is the envelope-verify business-boundary form (403 FORBIDDEN).
// Raw detached verify reports the same condition as a 200 body instead; callers
// of verify_detached must not use this constructor.
func SignatureMismatch() *ServiceError {
	return New(ErrCodeFORBIDDEN, "signature does not match the declared signer", http.StatusForbidden)
}

func InvalidPublicKey(reason string) *ServiceError {
	return New(ErrCodeInvalidPublicKey, reason, http.StatusBadRequest)
}

func InvalidName(reason string) *ServiceError {
	return New(ErrCodeInvalidName, reason, http.StatusBadRequest)
}

// Authorization / registry errors

func AgentForbidden(message string) *ServiceError {
	return New(ErrCodeFORBIDDEN, message, http.StatusForbidden)
}

func AgentNotFound(agentID string) *ServiceError {
	return New(ErrCodeAgentNotFound, "agent not found", http.StatusNotFound).
		WithDetails("agent_id", agentID)
}

func AccountNotFound(agentID string) *ServiceError {
	return New(ErrCodeAccountNotFound, "account not found", http.StatusNotFound).
		WithDetails("agent_id", agentID)
}

func AccountExists(agentID string) *ServiceError {
	return New(ErrCodeAccountExists, "account already exists", http.StatusConflict).
		WithDetails("agent_id", agentID)
}

func PublicKeyExists() *ServiceError {
	return New(ErrCodePublicKeyExists, "public key already registered", http.StatusConflict)
}

// Ledger/escrow domain errors

func InsufficientFundsDomain(agentID, required, available string) *ServiceError {
	return New(ErrCodeInsufficientFundsDomain, "insufficient funds", http.StatusPaymentRequired).
		WithDetails("agent_id", agentID).
		WithDetails("required", required).
		WithDetails("available", available)
}

func EscrowNotFound(escrowID string) *ServiceError {
	return New(ErrCodeEscrowNotFound, "escrow not found", http.StatusNotFound).
		WithDetails("escrow_id", escrowID)
}

func EscrowAlreadyResolved(escrowID, status string) *ServiceError {
	return New(ErrCodeEscrowAlreadyResolved, "escrow already resolved", http.StatusConflict).
		WithDetails("escrow_id", escrowID).
		WithDetails("status", status)
}

func TaskEscrowExists(taskID string) *ServiceError {
	return New(ErrCodeTaskEscrowExists, "task already has an escrow", http.StatusConflict).
		WithDetails("task_id", taskID)
}

// Task/bid domain errors

func TaskNotFound(taskID string) *ServiceError {
	return New(ErrCodeTaskNotFound, "task not found", http.StatusNotFound).
		WithDetails("task_id", taskID)
}

func InvalidTaskStatus(taskID, status, wanted string) *ServiceError {
	return New(ErrCodeInvalidTaskStatus, "task is not in the required status", http.StatusConflict).
		WithDetails("task_id", taskID).
		WithDetails("status", status).
		WithDetails("required", wanted)
}

func DuplicateBid(taskID, bidderID string) *ServiceError {
	return New(ErrCodeDuplicateBid, "agent already has a bid on this task", http.StatusConflict).
		WithDetails("task_id", taskID).
		WithDetails("bidder_id", bidderID)
}

func BidNotFound(bidID string) *ServiceError {
	return New(ErrCodeBidNotFound, "bid not found", http.StatusNotFound).
		WithDetails("bid_id", bidID)
}

func DeadlinePassed(taskID string) *ServiceError {
	return New(ErrCodeDeadlinePassed, "task deadline has passed", http.StatusConflict).
		WithDetails("task_id", taskID)
}

// Dispute/feedback domain errors

func DisputeNotFound(disputeID string) *ServiceError {
	return New(ErrCodeDisputeNotFound, "dispute not found", http.StatusNotFound).
		WithDetails("dispute_id", disputeID)
}

func DisputeAlreadyExists(taskID string) *ServiceError {
	return New(ErrCodeDisputeAlreadyExists, "task already has a dispute", http.StatusConflict).
		WithDetails("task_id", taskID)
}

func DisputeAlreadyRuled(disputeID string) *ServiceError {
	return New(ErrCodeDisputeAlreadyRuled, "dispute has already been ruled", http.StatusConflict).
		WithDetails("dispute_id", disputeID)
}

func InvalidDisputeStatus(disputeID, status, wanted string) *ServiceError {
	return New(ErrCodeInvalidDisputeStatus, "dispute is not in the required status", http.StatusConflict).
		WithDetails("dispute_id", disputeID).
		WithDetails("status", status).
		WithDetails("required", wanted)
}

func RebuttalAlreadySubmitted(disputeID string) *ServiceError {
	return New(ErrCodeRebuttalAlreadySubmitted, "rebuttal already submitted", http.StatusConflict).
		WithDetails("dispute_id", disputeID)
}

func FeedbackAlreadySubmitted(taskID, agentID string) *ServiceError {
	return New(ErrCodeFeedbackAlreadySubmitted, "feedback already submitted", http.StatusConflict).
		WithDetails("task_id", taskID).
		WithDetails("agent_id", agentID)
}

// Downstream component unavailability

func downstream(code ErrorCode, component string, err error) *ServiceError {
	return Wrap(code, component+" is unavailable", http.StatusBadGateway, err)
}

func IdentityUnavailable(err error) *ServiceError   { return downstream(ErrCodeIdentityUnavailable, "identity", err) }
func LedgerUnavailable(err error) *ServiceError     { return downstream(ErrCodeLedgerUnavailable, "ledger", err) }
func BoardUnavailable(err error) *ServiceError      { return downstream(ErrCodeBoardUnavailable, "task board", err) }
func ReputationUnavailable(err error) *ServiceError { return downstream(ErrCodeReputationUnavailable, "reputation", err) }
func CourtUnavailable(err error) *ServiceError      { return downstream(ErrCodeCourtUnavailable, "court", err) }
func JudgeUnavailable(err error) *ServiceError      { return downstream(ErrCodeJudgeUnavailable, "judge panel", err) }

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
