package apperror

// Code identifies an error condition.
type Code string

// General codes.
const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen        Code = "CIRCUIT_OPEN"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// Pool input codes. These are recovered per pool.
const (
	CodeMalformedPool Code = "MALFORMED_POOL"
	CodeSelfPool      Code = "SELF_POOL"
	CodeZeroReserve   Code = "ZERO_RESERVE"
	CodeUnknownToken  Code = "UNKNOWN_TOKEN"
	CodeDuplicatePool Code = "DUPLICATE_POOL"
)

// Run codes.
const (
	CodeAnchorDeviation Code = "ANCHOR_DEVIATION"
	CodeRunFailed       Code = "RUN_FAILED"
	CodeRunTimeout      Code = "RUN_TIMEOUT"
	CodeRunSuperseded   Code = "RUN_SUPERSEDED"
)

// Collaborator codes.
const (
	CodeOracleUnavailable        Code = "ORACLE_UNAVAILABLE"
	CodePoolSourceFailed         Code = "POOL_SOURCE_FAILED"
	CodeSnapshotStoreError       Code = "SNAPSHOT_STORE_ERROR"
	CodeHistoryStoreError        Code = "HISTORY_STORE_ERROR"
	CodeEthereumConnectionFailed Code = "ETHEREUM_CONNECTION_FAILED"
	CodeEthereumRPCError         Code = "ETHEREUM_RPC_ERROR"
	CodeContractCallFailed       Code = "CONTRACT_CALL_FAILED"
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"
)

type codeInfo struct {
	kind    Kind
	message string
}

var catalog = map[Code]codeInfo{
	CodeInvalidInput:       {KindInternal, "Invalid input"},
	CodeNotFound:           {KindInternal, "Not found"},
	CodeConfigurationError: {KindConfiguration, "Configuration error"},
	CodeRateLimitExceeded:  {KindExternal, "Rate limit exceeded"},
	CodeCircuitOpen:        {KindExternal, "Circuit breaker is open"},
	CodeInternalError:      {KindInternal, "Internal error"},
	CodeUnknownError:       {KindInternal, "Unknown error"},

	CodeMalformedPool: {KindMalformedInput, "Malformed pool skipped"},
	CodeSelfPool:      {KindMalformedInput, "Pool references the same token on both sides"},
	CodeZeroReserve:   {KindMalformedInput, "Pool has a zero reserve and is excluded from propagation"},
	CodeUnknownToken:  {KindMalformedInput, "Pool references a token without decimals metadata"},
	CodeDuplicatePool: {KindMalformedInput, "Duplicate pool id"},

	CodeAnchorDeviation: {KindInternal, "Pool price deviates from anchor"},
	CodeRunFailed:       {KindRunFailure, "Pricing run failed"},
	CodeRunTimeout:      {KindRunFailure, "Pricing run exceeded its deadline"},
	CodeRunSuperseded:   {KindRunFailure, "Pricing run superseded by a newer snapshot"},

	CodeOracleUnavailable:        {KindExternal, "BTC oracle price unavailable"},
	CodePoolSourceFailed:         {KindExternal, "Failed to fetch pools"},
	CodeSnapshotStoreError:       {KindExternal, "Snapshot store error"},
	CodeHistoryStoreError:        {KindExternal, "Price history store error"},
	CodeEthereumConnectionFailed: {KindExternal, "Failed to connect to Ethereum node"},
	CodeEthereumRPCError:         {KindExternal, "Ethereum RPC call failed"},
	CodeContractCallFailed:       {KindExternal, "Contract call failed"},
	CodeWebSocketConnectionError: {KindExternal, "WebSocket connection error"},
	CodeWebSocketClosed:          {KindExternal, "WebSocket connection closed"},
	CodeWebSocketSendError:       {KindExternal, "Failed to send WebSocket message"},
}
