package dht

// Mock is a sensor with a fixed reading, used with the mock GPIO driver.
// A non-nil Err makes every read fail.
type Mock struct {
	Reading Reading
	Err     error
}

func (m *Mock) Temperature() (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Reading.Temperature, nil
}

func (m *Mock) Humidity() (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Reading.Humidity, nil
}
