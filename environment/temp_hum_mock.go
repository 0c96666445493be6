package environment

import (
	"context"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// HumidityBehaviorFunc defines the function signature for humidity behavior.
// It returns the relative humidity in %RH or an error.
type HumidityBehaviorFunc func(ctx context.Context) (float32, error)

// MockSHTC3 stands in for an SHTC3 without any bus, producing readings from behavior
// functions. It satisfies the same measurement surface as SHTC3.
type MockSHTC3 struct {
	ID           uint8
	tempBehavior TemperatureBehaviorFunc
	humBehavior  HumidityBehaviorFunc
}

// NewMockSHTC3 creates a mock sensor reporting identifier 0x47.
//
// Example usage:
//
//	temp := float32(20.0)
//	sensor := NewMockSHTC3(
//		func(ctx context.Context) (float32, error) { return temp, nil },
//		func(ctx context.Context) (float32, error) { return 50.0, nil },
//	)
func NewMockSHTC3(tempBehavior TemperatureBehaviorFunc, humBehavior HumidityBehaviorFunc) *MockSHTC3 {
	return &MockSHTC3{
		ID:           0x47,
		tempBehavior: tempBehavior,
		humBehavior:  humBehavior,
	}
}

func (m *MockSHTC3) DeviceIdentifier(ctx context.Context) (uint8, error) {
	return m.ID, nil
}

// Measure calls the temperature behavior, then the humidity behavior. The mode is ignored.
func (m *MockSHTC3) Measure(ctx context.Context, mode PowerMode) (Measurement, error) {
	temp, err := m.tempBehavior(ctx)
	if err != nil {
		return Measurement{}, err
	}
	hum, err := m.humBehavior(ctx)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Temperature: temp, Humidity: hum}, nil
}

// GetTempAndHum returns both temperature and humidity by calling both behavior functions.
func (m *MockSHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	res, err := m.Measure(ctx, NormalMode)
	return res.Temperature, res.Humidity, err
}
