package configuration

import (
	"github.com/clambin/go-common/charmer"
)

// Arguments returns the command line flags and their defaults, keyed by configuration key.
func Arguments() charmer.Arguments {
	d := Default()
	return charmer.Arguments{
		"debug":                        {Default: false, Help: "Log debug messages"},
		"coordinator.url":              {Default: d.Coordinator.URL, Help: "URL of the coordinator"},
		"coordinator.timeout":          {Default: d.Coordinator.Timeout, Help: "Timeout of coordinator requests"},
		"coordinator.breaker.enabled":  {Default: false, Help: "Fail fast when the coordinator is unreachable"},
		"coordinator.breaker.failures": {Default: int(d.Coordinator.Breaker.Failures), Help: "Consecutive failures that open the circuit breaker"},
		"coordinator.breaker.openFor":  {Default: d.Coordinator.Breaker.OpenFor, Help: "Time the circuit breaker stays open"},
		"board.driver":                 {Default: d.Board.Driver, Help: "Board driver (sim|periph)"},
		"board.sensorSlot":             {Default: d.Board.SensorSlot, Help: "Entry of the coordinator's sensor array read by this board"},
		"board.sensorID":               {Default: int(d.Board.SensorID), Help: "Sensor ID reported to the coordinator"},
		"board.valve":                  {Default: d.Board.Valve, Help: "Board drives a valve"},
		"sensor.samples":               {Default: d.Sensor.Samples, Help: "Samples averaged per reading"},
		"sensor.highBound":             {Default: int(d.Sensor.HighBound), Help: "Raw value at 0% moisture"},
		"sensor.lowBound":              {Default: int(d.Sensor.LowBound), Help: "Raw value at 100% moisture"},
		"reporter.normal":              {Default: d.Reporter.Normal, Help: "Reporting interval"},
		"reporter.watering":            {Default: d.Reporter.Watering, Help: "Reporting interval during automatic watering"},
		"reporter.manual":              {Default: d.Reporter.Manual, Help: "Reporting interval during manual watering"},
		"poller.interval":              {Default: d.Poller.Interval, Help: "Coordinator polling interval"},
		"sequencer.tick":               {Default: d.Sequencer.Tick, Help: "Sequencer tick"},
		"sequencer.water1":             {Default: d.Sequencer.Water1, Help: "Duration of the first watering phase"},
		"sequencer.pause1":             {Default: d.Sequencer.Pause1, Help: "Duration of the first pause"},
		"sequencer.water2":             {Default: d.Sequencer.Water2, Help: "Duration of the second watering phase"},
		"sequencer.pause2":             {Default: d.Sequencer.Pause2, Help: "Duration of the second pause"},
		"pins.i2cBus":                  {Default: d.Pins.I2CBus, Help: "I²C bus of the ADC (blank: first available)"},
		"pins.adcAddress":              {Default: int(d.Pins.ADCAddress), Help: "I²C address of the ADC"},
		"pins.adcChannel":              {Default: d.Pins.ADCChannel, Help: "ADC channel of the moisture sensor"},
		"pins.servo":                   {Default: d.Pins.Servo, Help: "PWM pin of the valve servo"},
		"pins.low":                     {Default: d.Pins.Low, Help: "Pin of the low hydration light"},
		"pins.moderate":                {Default: d.Pins.Moderate, Help: "Pin of the moderate hydration light"},
		"pins.good":                    {Default: d.Pins.Good, Help: "Pin of the good hydration light"},
		"pins.valve":                   {Default: d.Pins.Valve, Help: "Pin of the valve light"},
		"pins.link":                    {Default: d.Pins.Link, Help: "Pin of the link light"},
		"servo.openPulse":              {Default: d.Servo.OpenPulse, Help: "Servo pulse width for the open position"},
		"servo.closedPulse":            {Default: d.Servo.ClosedPulse, Help: "Servo pulse width for the closed position"},
		"servo.settle":                 {Default: d.Servo.Settle, Help: "Time the servo pulse is held"},
		"health.addr":                  {Default: d.Health.Addr, Help: "Address of /health and /metrics endpoints"},
		"slack.token":                  {Default: "", Help: "Slack token"},
		"slack.channel":                {Default: "", Help: "Slack channel (blank: all joined channels)"},
		"mqtt.broker":                  {Default: "", Help: "MQTT broker URL (blank: disabled)"},
		"mqtt.topic":                   {Default: d.MQTT.Topic, Help: "MQTT topic prefix"},
		"mqtt.clientID":                {Default: d.MQTT.ClientID, Help: "MQTT client ID"},
		"mqtt.username":                {Default: "", Help: "MQTT username"},
		"mqtt.password":                {Default: "", Help: "MQTT password"},
		"mqtt.maxRetries":              {Default: int(d.MQTT.MaxRetries), Help: "MQTT connection attempts"},
	}
}
