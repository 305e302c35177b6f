package constants

// Route constants shared by the router and the gateway registration
const (
	APIPrefix        = "/api"
	APIV1Prefix      = "/v1"
	AdminPrefix      = "/admin"
	HealthRoute      = "/healthz"
	MetricsRoute     = "/metrics"
	DocsRoute        = "/docs/api/"
	STKCallbackRoute = "/payments/stk_callback"
	C2BValidateRoute = "/mpesa/validate"
	C2BConfirmRoute  = "/mpesa/confirm"
)
