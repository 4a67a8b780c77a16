package router

import "errors"

var (
	// ErrDeviceUnavailable is returned by writes to an output whose device is not present.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrClosedHandle is returned for operations on a closed port reference.
	ErrClosedHandle    = errors.New("port is closed")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRefcountUnderflow means a handle was released more times than acquired.
	ErrRefcountUnderflow = errors.New("port handle refcount underflow")
	ErrProcessorNotFound = errors.New("processor not registered")
	// ErrNameUnresolved reports a port name that currently matches no device.
	ErrNameUnresolved = errors.New("port name unresolved")
)
