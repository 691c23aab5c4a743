// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package keystone

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/halcyon/internal/conf"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
)

// KeystoneAPI for OpenStack.
type KeystoneAPI interface {
	// Authenticate against the OpenStack keystone.
	Authenticate(context.Context) error
	// Get the OpenStack provider client.
	Client() *gophercloud.ProviderClient
	// Find the endpoint for the given service type and availability.
	FindEndpoint(availability, serviceType string) (string, error)
	// Get the configured availability for keystone.
	Availability() string
	// Get the username we authenticate with.
	Username() string
}

// KeystoneAPI implementation.
type keystoneAPI struct {
	// OpenStack provider client.
	client *gophercloud.ProviderClient
	// OpenStack keystone configuration.
	keystoneConf conf.KeystoneConfig
	// Optional HTTP client to use for requests.
	httpClient *http.Client
}

// Create a new OpenStack keystone API.
func NewKeystoneAPI(keystoneConf conf.KeystoneConfig) KeystoneAPI {
	return &keystoneAPI{keystoneConf: keystoneConf}
}

// Create a new OpenStack keystone API with a custom HTTP client.
func NewKeystoneAPIWithHTTPClient(keystoneConf conf.KeystoneConfig, httpClient *http.Client) KeystoneAPI {
	return &keystoneAPI{keystoneConf: keystoneConf, httpClient: httpClient}
}

// Authenticate against OpenStack keystone.
func (api *keystoneAPI) Authenticate(ctx context.Context) error {
	if api.client != nil {
		// Already authenticated.
		return nil
	}
	slog.Info("authenticating against openstack", "url", api.keystoneConf.URL)
	authOptions := gophercloud.AuthOptions{
		IdentityEndpoint: api.keystoneConf.URL,
		Username:         api.keystoneConf.OSUsername,
		DomainName:       api.keystoneConf.OSUserDomainName,
		Password:         api.keystoneConf.OSPassword,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: api.keystoneConf.OSProjectName,
			DomainName:  api.keystoneConf.OSProjectDomainName,
		},
	}
	provider, err := openstack.NewClient(authOptions.IdentityEndpoint)
	if err != nil {
		return err
	}
	if api.httpClient != nil {
		provider.HTTPClient = *api.httpClient
	} else {
		httpClient, err := NewHTTPClient(api.keystoneConf.SSO)
		if err != nil {
			return err
		}
		provider.HTTPClient = *httpClient
	}
	if err = openstack.Authenticate(ctx, provider, authOptions); err != nil {
		return err
	}
	api.client = provider
	slog.Info("authenticated against openstack")
	return nil
}

// Find the endpoint for the given service type and availability.
func (api *keystoneAPI) FindEndpoint(availability, serviceType string) (string, error) {
	return api.client.EndpointLocator(gophercloud.EndpointOpts{
		Type:         serviceType,
		Availability: gophercloud.Availability(availability),
	})
}

func (api *keystoneAPI) Availability() string {
	return api.keystoneConf.Availability
}

func (api *keystoneAPI) Username() string {
	return api.keystoneConf.OSUsername
}

// Get the OpenStack provider client.
func (api *keystoneAPI) Client() *gophercloud.ProviderClient {
	return api.client
}
