/*
Package authsdk provides a client SDK for the gateway's authentication API.

# SDKClient vs Session

  - SDKClient: unauthenticated operations (login, login parameters, health)
  - Session: operations made with a bearer (verify, self info, logout)

Log in and use the bearer:

	client := authsdk.NewSDKClient("https://gateway.example.com")
	client.Engine = "default"

	session, _, err := client.AuthenticateWithPassword(ctx, "demo", "demo")
	if err != nil {
		return err
	}

	me, err := session.Me(ctx)

# Token Renewal

Gateway bearers expire after a short validity but may be prolonged. A
request made with an expired but prolongable bearer is answered with 401,
error code token_expired and the renewed bearer in both the X-Renewed-Token
header and the body. Session methods adopt the renewed bearer and retry
once; Session.Token returns whichever bearer is current.

# Error Handling

Error responses are returned as *APIError:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// log in again
	}

The server side of the gateway writes its errors with APIError.WriteError,
so the wire format is defined in one place.

# Thread Safety

SDKClient and Session are safe for concurrent use.
*/
package authsdk
