package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tarnhelm/gomodbus"
	"github.com/tarnhelm/gomodbus/poller"
	"gopkg.in/yaml.v3"
)

/*
Example `config.yaml` content, bridging a holding-register map to an MQTT broker

mqtt:
  broker: "tcp://localhost:1883"
  client_id: "modbus-bridge"
  topic_prefix: "modbus"
defaults:
  server_address: "192.168.0.10:502"
  function_code: 3
  unit_id: 1
  protocol: tcp
  interval: 1s
fields:
  - name: Voltage
    address: 100
    type: float32
  - name: Current
    address: 102
    type: float32
*/

type yamlConfig struct {
	MQTT     mqttConfig   `yaml:"mqtt"`
	Defaults yamlDefaults `yaml:"defaults"`
	Fields   []yamlField  `yaml:"fields"`
}

type mqttConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type yamlDefaults struct {
	ServerAddress string `yaml:"server_address"`
	FunctionCode  uint8  `yaml:"function_code"`
	UnitID        uint8  `yaml:"unit_id"`
	Protocol      string `yaml:"protocol"`
	Interval      string `yaml:"interval"`
}

type yamlField struct {
	Name    string `yaml:"name"`
	Address uint16 `yaml:"address"`
	Type    string `yaml:"type"`
}

// usage: ./modbus-bridge -config=config.yaml
func main() {
	var configLoc string
	flag.StringVar(&configLoc, "config", "config.yaml", "path to yaml configuration")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	raw, err := os.ReadFile(configLoc) // #nosec G304
	if err != nil {
		logger.Error("reading config.yaml failed", "err", err)
		return
	}

	var conf yamlConfig
	if err := yaml.Unmarshal(raw, &conf); err != nil {
		logger.Error("config yaml unmarshalling failed", "err", err)
		return
	}

	b, err := newBuilder(conf)
	if err != nil {
		logger.Error("building field batches failed", "err", err)
		return
	}
	batches, err := b.Split()
	if err != nil {
		logger.Error("splitting fields to requests failed", "err", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mqttClient, err := connectMQTT(conf.MQTT)
	if err != nil {
		logger.Error("mqtt connect failed", "err", err)
		return
	}
	defer mqttClient.Disconnect(250)

	p := poller.NewPollerWithConfig(batches, poller.Config{Logger: logger})
	go publishResults(ctx, logger, mqttClient, conf.MQTT.TopicPrefix, p.ResultChan)

	if err := p.Poll(ctx); err != nil {
		logger.Error("polling ended with failure", "err", err)
		return
	}
	logger.Info("polling ended")
}

func newBuilder(conf yamlConfig) (*modbus.Builder, error) {
	protocol, err := parseProtocol(conf.Defaults.Protocol)
	if err != nil {
		return nil, err
	}
	interval, err := time.ParseDuration(conf.Defaults.Interval)
	if err != nil && conf.Defaults.Interval != "" {
		return nil, fmt.Errorf("invalid defaults.interval: %w", err)
	}

	b := modbus.NewRequestBuilderWithConfig(modbus.BuilderDefaults{
		ServerAddress: conf.Defaults.ServerAddress,
		FunctionCode:  conf.Defaults.FunctionCode,
		UnitID:        conf.Defaults.UnitID,
		Protocol:      protocol,
		Interval:      modbus.Duration(interval),
	})
	for _, f := range conf.Fields {
		fieldType, err := modbus.ParseFieldType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		b.AddField(modbus.Field{
			Name:    f.Name,
			Address: f.Address,
			Type:    fieldType,
		})
	}
	return b, nil
}

func parseProtocol(raw string) (modbus.ProtocolType, error) {
	var p modbus.ProtocolType
	if err := p.UnmarshalJSON([]byte(`"` + strings.ToLower(raw) + `"`)); err != nil {
		return 0, err
	}
	return p, nil
}

func connectMQTT(conf mqttConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(conf.Broker).SetClientID(conf.ClientID)
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func publishResults(ctx context.Context, logger *slog.Logger, client mqtt.Client, topicPrefix string, results <-chan poller.Result) {
	for {
		select {
		case result := <-results:
			for _, v := range result.Values {
				if v.Error != nil {
					continue
				}
				topic := fmt.Sprintf("%s/%s", topicPrefix, v.Field.Name)
				payload := fmt.Sprintf("%v", v.Value)
				token := client.Publish(topic, 0, false, payload)
				if token.Wait() && token.Error() != nil {
					logger.Error("mqtt publish failed", "topic", topic, "err", token.Error())
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
