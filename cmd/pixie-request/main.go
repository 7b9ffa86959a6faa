package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"hagw/pixie-gateway/internal/messaging"
	"hagw/pixie-gateway/internal/model"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	prefix := flag.String("prefix", "rvi", "Topic prefix shared with the gateway")
	serviceID := flag.String("service-id", "/pixie", "Gateway service id")
	method := flag.String("method", "getitemlocations", "getitemlocations or getrawitemlocations")
	sendTo := flag.String("sendto", "", "Service to deliver the reply to (default: random requester service)")
	tags := flag.String("tags", "", "Comma separated tag ids to include in the request")
	wait := flag.Duration("wait", 10*time.Second, "How long to wait for the reply")

	flag.Parse()

	if *method != "getitemlocations" && *method != "getrawitemlocations" {
		log.Fatalf("unsupported method %q", *method)
	}

	replyService := *sendTo
	if replyService == "" {
		replyService = "requester/" + uuid.NewString() + "/report"
	}

	replyTopic, err := messaging.TopicFor(*prefix, replyService)
	if err != nil {
		log.Fatalf("invalid reply service: %v", err)
	}
	requestTopic, err := messaging.TopicFor(*prefix, strings.Trim(*serviceID, "/")+"/"+*method)
	if err != nil {
		log.Fatalf("invalid service id: %v", err)
	}

	clientID := "pixie-request-" + uuid.NewString()
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	replies := make(chan []byte, 1)
	if token := client.Subscribe(replyTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case replies <- msg.Payload():
		default:
		}
	}); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to subscribe to %s: %v", replyTopic, token.Error())
	}

	req := model.ItemLocationsRequest{Tags: splitList(*tags), SendTo: replyService}
	data, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("failed to encode request: %v", err)
	}

	token := client.Publish(requestTopic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Fatalf("publish error: %v", err)
	}
	log.Printf("published %s, awaiting reply on %s", requestTopic, replyTopic)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()

	select {
	case payload := <-replies:
		var pretty any
		if err := json.Unmarshal(payload, &pretty); err != nil {
			log.Fatalf("reply is not JSON: %v", err)
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	case <-ctx.Done():
		log.Fatalf("no reply within %s", *wait)
	}
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
