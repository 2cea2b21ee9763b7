package cache

import "strings"

// ContextKey builds the grant-context cache key. Entries under this key
// resolve the newest token for a client/user/scope/idp/binding tuple and
// must be invalidated whenever rotation changes which record is newest.
func ContextKey(clientID, userID, userDomain, scope, idpName, bindingRef string) string {
	return "ctx:" + strings.Join([]string{
		clientID,
		qualifiedUser(userID, userDomain),
		scope,
		idpName,
		bindingRef,
	}, ":")
}

// TokenKey builds the raw-token cache key; the value under it resolves a
// token string (or its issuer alias) back to the record.
func TokenKey(token string) string {
	return "tok:" + token
}

// AttributeKey builds the auth-attribute cache key for a token id.
func AttributeKey(tokenID string) string {
	return "attr:" + tokenID
}

func qualifiedUser(userID, userDomain string) string {
	if userDomain == "" {
		return userID
	}
	return userDomain + "/" + userID
}
