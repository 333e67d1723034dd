// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when scripting agent conversations and asserting what
// reached the client. They are not intended for production usage.
package testutil
