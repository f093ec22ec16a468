// Package cloud is the request/response collaborator for the Computherm
// cloud API: credential login, device listing, and relay commands. It is
// deliberately thin; all real-time state flows through the push feed.
package cloud
