package opensearch

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Client wraps the OpenSearch client used as the structured-log sink.
type Client struct {
	client *opensearch.Client
	config *config.AppConfig
}

// NewClient creates a new OpenSearch client.
func NewClient(cfg *config.AppConfig) (*Client, error) {
	opensearchConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // self-signed clusters in dev
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		opensearchConfig.Username = cfg.OpenSearchUser
		opensearchConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, err
	}

	osClient := &Client{client: client, config: cfg}
	if err := osClient.setupIndices(); err != nil {
		log.Printf("Warning: Failed to setup OpenSearch indices: %v", err)
	}
	return osClient, nil
}

// GetClient returns the underlying OpenSearch client.
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// setupIndices creates the payment-event index per gateway, plus the system
// log index.
func (c *Client) setupIndices() error {
	indices := []string{SystemIndexName}
	for _, processor := range config.ProcessorTypes() {
		indices = append(indices, c.GetEventIndexName("", string(processor)))
	}

	for _, indexName := range indices {
		exists, err := c.indexExists(indexName)
		if err != nil {
			log.Printf("Error checking index %s: %v", indexName, err)
			continue
		}
		if !exists {
			if err := c.createEventIndex(indexName); err != nil {
				log.Printf("Error creating index %s: %v", indexName, err)
			}
		}
	}
	return nil
}

func (c *Client) indexExists(indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{
		Index: []string{indexName},
	}
	res, err := req.Do(nil, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// createEventIndex creates a new index with the payment-event mapping.
func (c *Client) createEventIndex(indexName string) error {
	mapping := `{
		"mappings": {
			"properties": {
				"timestamp": {
					"type": "date",
					"format": "strict_date_optional_time||epoch_millis"
				},
				"tenant_id": { "type": "keyword" },
				"processor": { "type": "keyword" },
				"kind": { "type": "keyword" },
				"request_id": { "type": "keyword" },
				"client_ip": { "type": "ip" },
				"payment_id": { "type": "keyword" },
				"order_id": { "type": "keyword" },
				"transaction_id": { "type": "keyword" },
				"status": { "type": "keyword" },
				"amount": { "type": "double" },
				"currency": { "type": "keyword" },
				"signature_ok": { "type": "boolean" },
				"level": { "type": "keyword" },
				"component": { "type": "keyword" },
				"message": { "type": "text" },
				"error": { "type": "text" }
			}
		},
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 0
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}
	res, err := req.Do(nil, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}
	return nil
}

// SystemIndexName is the index holding application system logs.
const SystemIndexName = "paygate-system-logs"

// GetEventIndexName returns the index name for a tenant's gateway events.
func (c *Client) GetEventIndexName(tenantID, processor string) string {
	if tenantID == "" {
		return "paygate-" + processor + "-events"
	}
	return "paygate-" + tenantID + "-" + processor + "-events"
}

// IsEnabled reports whether OpenSearch logging is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.EnableLogging
}
