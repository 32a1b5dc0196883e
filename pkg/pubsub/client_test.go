package pubsub

import (
	"testing"

	"github.com/angelmondragon/ridepay-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "ridepay-dev"}

	cases := map[string]string{
		"payment-events":                       "projects/ridepay-dev/topics/payment-events",
		"  payment-events ":                    "projects/ridepay-dev/topics/payment-events",
		"projects/other/topics/payment-events": "projects/other/topics/payment-events",
		"":                                     "",
	}
	for input, want := range cases {
		if got := c.topicResourceName(input); got != want {
			t.Fatalf("topicResourceName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTopicResourceNameWithoutProject(t *testing.T) {
	c := &Client{}
	if got := c.topicResourceName("payment-events"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	if names := topicNames(config.PubSubConfig{PaymentEventsTopic: "  "}); len(names) != 0 {
		t.Fatalf("expected no topics, got %v", names)
	}
	names := topicNames(config.PubSubConfig{PaymentEventsTopic: "payment-events"})
	if len(names) != 1 || names[0] != "payment-events" {
		t.Fatalf("unexpected topics %v", names)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("payment-events") != nil {
		t.Fatal("expected nil publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
