// Package auth gates HTTP access to the gateway.
//
// Authentication is a chain of voters. Each authenticator inspects the
// request and answers Yes (identity established), No (credentials
// present but invalid), or Abstain (not its kind of credential). When
// every voter abstains, the chain's default decision applies.
//
// The package plugs in as HTTP middleware, so dispatch code never sees
// auth concerns. The authenticated subject doubles as the user ID that
// scopes stored provider credentials.
package auth
