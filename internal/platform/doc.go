// Package platform provides a uniform provisioning interface over the
// backing runtimes that can host terminal units.
//
// Two adapters exist: one driving the Docker CLI for single-host
// deployments, and one driving kubectl for cluster deployments. The backend
// is a configuration-time choice; callers only see the Adapter interface.
//
// Provision returns as soon as the unit is scheduled. Readiness is reported
// asynchronously by the unit's supervisor through the callback endpoints,
// never by blocking inside the adapter.
package platform
