// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package backend talks to the OpenStack services on behalf of the
// executors. Methods take resource records, perform the backend call, and
// update the record fields from the response. Persisting the records is the
// caller's job.
package backend

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/halcyon/internal/keystone"
	"github.com/gophercloud/gophercloud/v2"
)

type Backend struct {
	// Keystone api to authenticate against.
	keystoneAPI keystone.KeystoneAPI

	// Authenticated OpenStack service clients.
	identity *gophercloud.ServiceClient
	compute  *gophercloud.ServiceClient
	volume   *gophercloud.ServiceClient
	network  *gophercloud.ServiceClient
}

func NewBackend(k keystone.KeystoneAPI) *Backend {
	return &Backend{keystoneAPI: k}
}

// Authenticate and resolve the service endpoints from the catalog.
func (b *Backend) Init(ctx context.Context) {
	if err := b.keystoneAPI.Authenticate(ctx); err != nil {
		panic(err)
	}
	provider := b.keystoneAPI.Client()
	availability := b.keystoneAPI.Availability()
	newClient := func(serviceType, microversion string) *gophercloud.ServiceClient {
		url, err := b.keystoneAPI.FindEndpoint(availability, serviceType)
		if err != nil {
			panic(err)
		}
		slog.Info("using endpoint", "serviceType", serviceType, "url", url)
		return &gophercloud.ServiceClient{
			ProviderClient: provider,
			Endpoint:       url,
			Type:           serviceType,
			Microversion:   microversion,
		}
	}
	b.identity = newClient("identity", "")
	b.compute = newClient("compute", "2.60")
	b.volume = newClient("volumev3", "3.70")
	b.network = newClient("network", "")
	// Neutron resources live below /v2.0, the catalog endpoint does not
	// include it.
	b.network.ResourceBase = b.network.Endpoint + "v2.0/"
}

// Whether the error is a "not found" response from the backend.
func isNotFound(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusNotFound)
}
