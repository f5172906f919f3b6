package provider

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Failure reasons used for attempt logging and metrics.
const (
	ReasonTimeout           = "timeout"
	ReasonConnectionRefused = "connection_refused"
	ReasonDNS               = "dns_error"
	ReasonTLS               = "tls_error"
	ReasonNetwork           = "network"
	ReasonCanceled          = "canceled"
	ReasonHTTP3xx           = "http_3xx"
	ReasonHTTP4xx           = "http_4xx"
	ReasonHTTP429           = "http_429"
	ReasonHTTP5xx           = "http_5xx"
)

// DeliveryError describes why a webhook call did not succeed. StatusCode is 0
// when the call failed below the HTTP layer.
type DeliveryError struct {
	StatusCode int
	Reason     string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "webhook delivery failed")
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransport reports whether the call failed before an HTTP response arrived.
func (e *DeliveryError) IsTransport() bool {
	return e != nil && e.StatusCode == 0
}

// Reason extracts the failure reason of err, "unknown" when not a delivery error.
func Reason(err error) string {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Reason != "" {
		return deliveryErr.Reason
	}
	return "unknown"
}

func statusReason(statusCode int) string {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ReasonHTTP429
	case statusCode >= 500:
		return ReasonHTTP5xx
	case statusCode >= 400:
		return ReasonHTTP4xx
	default:
		return ReasonHTTP3xx
	}
}

func transportReason(err error) string {
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonConnectionRefused
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &recordErr) {
		return ReasonTLS
	}

	return ReasonNetwork
}
