// Package errors provides the gateway's structured error type.
//
// Components return sentinel errors wrapped with fmt.Errorf; the dispatcher
// converts them into an *AppError carrying an error code, the HTTP status
// written to the client, and whether the client may retry. ToResponse
// renders the JSON body.
package errors
