package config

// Embedded device profiles. Key: profile name passed with --profile.

// The enclosure node: DS3231 RTC, BME280 and AHT20 behind a powered I2C
// extender, deep sleep between cycles.
const cfgWeatherStation = `
device:
  production: true
schedule:
  deep_sleep: true
signal:
  led: status
  active_low: true
network:
  enabled: true
  provisioning: true
clock:
  kind: hardware
transport:
  database: weather
i2c:
  bus: /dev/i2c-1
  gate_gpio: 17
sensors:
  - driver: bme280
  - driver: aht20
  - driver: voltage
    supply: battery
test_switch:
  gpio: 27
`

// The USB stick build: SHTC3 only, software clock, no sleep hardware.
const cfgWeatherStick = `
device:
  production: true
signal:
  led: status
network:
  enabled: true
  provisioning: true
clock:
  kind: soft
transport:
  database: weather
i2c:
  bus: /dev/i2c-1
sensors:
  - driver: shtc3
`

var embeddedConfigs = map[string][]byte{
	"weather_station": []byte(cfgWeatherStation),
	"weather_stick":   []byte(cfgWeatherStick),
}
