package environment

import (
	"context"
	"fmt"
	"testing"
)

func TestMockSHTC3_StaticValues(t *testing.T) {
	sensor := NewMockSHTC3(
		func(ctx context.Context) (float32, error) { return 22.5, nil },
		func(ctx context.Context) (float32, error) { return 45.0, nil },
	)

	ctx := context.Background()

	id, err := sensor.DeviceIdentifier(ctx)
	if err != nil {
		t.Fatalf("DeviceIdentifier: unexpected error: %v", err)
	}
	if id != 0x47 {
		t.Errorf("expected identifier 0x47, got %#x", id)
	}

	m, err := sensor.Measure(ctx, LowPowerMode)
	if err != nil {
		t.Fatalf("Measure: unexpected error: %v", err)
	}
	if m.Temperature != 22.5 || m.Humidity != 45.0 {
		t.Errorf("expected 22.5/45.0, got %f/%f", m.Temperature, m.Humidity)
	}
}

func TestMockSHTC3_CounterBehavior(t *testing.T) {
	counter := 0

	sensor := NewMockSHTC3(
		func(ctx context.Context) (float32, error) {
			counter++
			return 20.0 + float32(counter)*0.5, nil
		},
		func(ctx context.Context) (float32, error) {
			return 50.0 - float32(counter)*1.0, nil
		},
	)

	ctx := context.Background()

	temp1, hum1, _ := sensor.GetTempAndHum(ctx)
	if temp1 != 20.5 || hum1 != 49.0 {
		t.Errorf("first reading: expected 20.5/49.0, got %f/%f", temp1, hum1)
	}

	temp2, hum2, _ := sensor.GetTempAndHum(ctx)
	if temp2 != 21.0 || hum2 != 48.0 {
		t.Errorf("second reading: expected 21.0/48.0, got %f/%f", temp2, hum2)
	}
}

func TestMockSHTC3_ErrorHandling(t *testing.T) {
	humCalls := 0
	sensor := NewMockSHTC3(
		func(ctx context.Context) (float32, error) {
			return 0, fmt.Errorf("temperature sensor error")
		},
		func(ctx context.Context) (float32, error) {
			humCalls++
			return 50, nil
		},
	)

	_, err := sensor.Measure(context.Background(), NormalMode)
	if err == nil || err.Error() != "temperature sensor error" {
		t.Errorf("Measure: expected temperature sensor error, got %v", err)
	}
	if humCalls != 0 {
		t.Errorf("humidity behavior called after temperature failure")
	}
}
