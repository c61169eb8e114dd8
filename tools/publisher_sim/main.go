package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"

	"facade-monitor/internal/auth"
)

type config struct {
	brokerURL   string
	httpURL     string
	secret      string
	facadeID    string
	facadeType  string
	devices     int
	interval    time.Duration
	count       int
	anomalyRate float64
	qos         int
}

type sensorRange struct {
	name     string
	min, max float64
}

// nominal ranges sit inside the deployed thresholds.
var facadeSensors = map[string][]sensorRange{
	"refrigerada": {
		{"Temperatura_Ambiente", 15, 35},
		{"Irradiancia", 100, 1100},
		{"Velocidad_Viento", 0, 12},
		{"Humedad", 30, 80},
		{"T_ValvulaExpansion", -10, 20},
		{"T_EntCompresor", 0, 40},
		{"T_SalCompresor", 40, 90},
		{"T_SalCondensador", 20, 60},
		{"Presion_Alta", 150, 400},
		{"Presion_Baja", 5, 25},
	},
	"no_refrigerada": {
		{"Temperatura_Ambiente", 15, 35},
		{"Irradiancia", 100, 1100},
		{"Velocidad_Viento", 0, 12},
		{"Humedad", 30, 80},
		{"T_Entrada_Agua", 15, 40},
		{"T_Salida_Agua", 20, 50},
		{"Flujo_Agua_LPM", 50, 300},
	},
}

type message struct {
	FacadeID   string              `json:"facade_id"`
	DeviceID   string              `json:"device_id"`
	FacadeType string              `json:"facade_type"`
	TS         string              `json:"ts"`
	Data       map[string]*float64 `json:"data"`
}

func main() {
	cfg := parseConfig()
	sensors, ok := facadeSensors[cfg.facadeType]
	if !ok {
		log.Fatalf("unknown facade-type %q", cfg.facadeType)
	}
	if cfg.devices <= 0 {
		log.Fatal("devices must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publish func(deviceID string, body []byte) error
	if cfg.httpURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		publish = func(deviceID string, body []byte) error {
			return postSigned(ctx, client, cfg, deviceID, body)
		}
		log.Printf("publishing over http to %s", cfg.httpURL)
	} else {
		client, err := connect(cfg)
		if err != nil {
			log.Fatalf("mqtt connect: %v", err)
		}
		defer client.Disconnect(250)
		publish = func(deviceID string, body []byte) error {
			token := client.Publish("sensors/"+deviceID+"/all", byte(cfg.qos), false, body)
			token.Wait()
			return token.Error()
		}
		log.Printf("publishing over mqtt to %s", cfg.brokerURL)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
	for round := 1; cfg.count <= 0 || round <= cfg.count; round++ {
		for i := 1; i <= cfg.devices; i++ {
			deviceID := fmt.Sprintf("%s-dev%02d", cfg.facadeID, i)
			body, err := json.Marshal(buildMessage(rng, cfg, deviceID, sensors))
			if err != nil {
				log.Fatalf("encode message: %v", err)
			}
			if err := publish(deviceID, body); err != nil {
				log.Printf("publish %s: %v", deviceID, err)
			}
		}
		log.Printf("round %d published: devices=%d", round, cfg.devices)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildMessage(rng *rand.Rand, cfg config, deviceID string, sensors []sensorRange) message {
	msg := message{
		FacadeID:   cfg.facadeID,
		DeviceID:   deviceID,
		FacadeType: cfg.facadeType,
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		Data:       make(map[string]*float64, len(sensors)),
	}
	for _, sensor := range sensors {
		value := sensor.min + rng.Float64()*(sensor.max-sensor.min)
		if rng.Float64() < cfg.anomalyRate {
			switch rng.Intn(3) {
			case 0:
				msg.Data[sensor.name] = nil
				continue
			case 1:
				value = -1
			default:
				value = sensor.max * 2
			}
		}
		rounded := float64(int64(value*100)) / 100
		msg.Data[sensor.name] = &rounded
	}
	return msg
}

func connect(cfg config) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.brokerURL).
		SetClientID(fmt.Sprintf("facade-sim-%d", time.Now().UnixNano())).
		SetConnectTimeout(10 * time.Second)
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("timeout connecting to %s", cfg.brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func postSigned(ctx context.Context, client *http.Client, cfg config, deviceID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.httpURL+"?device_id="+deviceID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderIngestTimestamp, timestamp)
	req.Header.Set(auth.HeaderIngestSignature, auth.SignIngest([]byte(cfg.secret), timestamp, body))
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func parseConfig() config {
	var cfg config
	pflag.StringVar(&cfg.brokerURL, "broker", getenvDefault("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker url")
	pflag.StringVar(&cfg.httpURL, "http-url", "", "publish to this HTTP ingest endpoint instead of the broker")
	pflag.StringVar(&cfg.secret, "secret", os.Getenv("INGEST_HMAC_SECRET"), "HMAC secret for HTTP ingest")
	pflag.StringVar(&cfg.facadeID, "facade-id", "F1", "facade id")
	pflag.StringVar(&cfg.facadeType, "facade-type", "refrigerada", "refrigerada or no_refrigerada")
	pflag.IntVar(&cfg.devices, "devices", 2, "number of simulated devices")
	pflag.DurationVar(&cfg.interval, "interval", 10*time.Second, "publish interval")
	pflag.IntVar(&cfg.count, "count", 0, "rounds to publish, 0 runs until interrupted")
	pflag.Float64Var(&cfg.anomalyRate, "anomaly-rate", 0.02, "probability that a reading is null, negative or out of range")
	pflag.IntVar(&cfg.qos, "qos", 1, "MQTT QoS")
	pflag.Parse()
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
