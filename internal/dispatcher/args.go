package dispatcher

// Argument keys read by the dispatcher.
const (
	argAccountID         = "accountId"
	argAppID             = "appId"
	argMonitoringEnabled = "monitoringEnabled"
	argInstallationID    = "appInstallationId"
	argDebugLogging      = "debugLogging"
	argFirstName         = "firstName"
	argLastName          = "lastName"
	argPhoneNumber       = "phoneNumber"
	argToken             = "token"
	argEnabled           = "enabled"
)

// stringArg returns the value when it is a string, "" otherwise.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// boolArg returns the value when it is a bool, false otherwise.
func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
