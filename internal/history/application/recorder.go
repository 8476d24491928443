package application

import (
	"context"
	"errors"
	"log"

	"irrigation-cloud/internal/eventing"
	history "irrigation-cloud/internal/history/domain"
	"irrigation-cloud/internal/messaging"
	plants "irrigation-cloud/internal/plants/domain"
	wateringevents "irrigation-cloud/internal/watering/application/events"
)

// SampleRepository persists time-series samples.
type SampleRepository interface {
	InsertSensorSamples(ctx context.Context, samples []history.SensorSample) error
	InsertWateringSample(ctx context.Context, sample history.WateringSample) error
}

// PlantLister lists the plants bound to a pump.
type PlantLister interface {
	ListByDevice(ctx context.Context, deviceID string) ([]plants.Plant, error)
}

// Recorder consumes state and watering events and records history
// samples. Recording is fire-and-forget: failures are logged, never
// propagated back to the message handler.
type Recorder struct {
	repo   SampleRepository
	plants PlantLister
	logger *log.Logger
}

// NewRecorder constructs a recorder.
func NewRecorder(repo SampleRepository, plantLister PlantLister, logger *log.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, errors.New("history recorder: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{repo: repo, plants: plantLister, logger: logger}, nil
}

// Wire subscribes the recorder to the in-process bus.
func (r *Recorder) Wire(bus eventing.Bus) {
	bus.Subscribe(eventing.EventTypeOf[messaging.StateReported](), func(ctx context.Context, event any) error {
		evt, ok := event.(messaging.StateReported)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		r.recordState(ctx, evt)
		return nil
	})
	bus.Subscribe(eventing.EventTypeOf[wateringevents.WateringFinished](), func(ctx context.Context, event any) error {
		evt, ok := event.(wateringevents.WateringFinished)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		r.recordWatering(ctx, evt)
		return nil
	})
}

// recordState flattens one state report into sensor samples, using the
// report's processing time as the sample timestamp.
func (r *Recorder) recordState(ctx context.Context, evt messaging.StateReported) {
	var samples []history.SensorSample
	if evt.State.SoilMoisture != nil {
		samples = append(samples, history.SensorSample{DeviceID: evt.DeviceID, Key: "soil_moisture", Value: *evt.State.SoilMoisture, TS: evt.ObservedAt})
	}
	if evt.State.AirTemperature != nil {
		samples = append(samples, history.SensorSample{DeviceID: evt.DeviceID, Key: "air_temp", Value: *evt.State.AirTemperature, TS: evt.ObservedAt})
	}
	if evt.State.AirHumidity != nil {
		samples = append(samples, history.SensorSample{DeviceID: evt.DeviceID, Key: "air_humidity", Value: *evt.State.AirHumidity, TS: evt.ObservedAt})
	}
	for port, value := range evt.State.SoilPorts {
		samples = append(samples, history.SensorSample{DeviceID: evt.DeviceID, Key: "soil_port_" + port, Value: value, TS: evt.ObservedAt})
	}
	if len(samples) == 0 {
		return
	}
	if err := r.repo.InsertSensorSamples(ctx, samples); err != nil {
		r.logger.Printf("history recorder: sensor samples for %s: %v", evt.DeviceID, err)
	}
}

// recordWatering fans a finished run out to every plant the pump
// feeds, splitting the delivered volume evenly.
func (r *Recorder) recordWatering(ctx context.Context, evt wateringevents.WateringFinished) {
	if evt.ActualSeconds <= 0 {
		return
	}
	var bound []plants.Plant
	if r.plants != nil {
		var err error
		bound, err = r.plants.ListByDevice(ctx, evt.DeviceID)
		if err != nil {
			r.logger.Printf("history recorder: plants for %s: %v", evt.DeviceID, err)
			return
		}
	}
	if len(bound) == 0 {
		sample := history.WateringSample{
			DeviceID:        evt.DeviceID,
			VolumeLiters:    evt.VolumeLiters,
			DurationSeconds: evt.ActualSeconds,
			TS:              evt.FinishedAt,
		}
		if err := r.repo.InsertWateringSample(ctx, sample); err != nil {
			r.logger.Printf("history recorder: watering sample for %s: %v", evt.DeviceID, err)
		}
		return
	}
	perPlant := evt.VolumeLiters / float64(len(bound))
	for _, plant := range bound {
		sample := history.WateringSample{
			PlantID:         plant.ID,
			DeviceID:        evt.DeviceID,
			VolumeLiters:    perPlant,
			DurationSeconds: evt.ActualSeconds,
			TS:              evt.FinishedAt,
		}
		if err := r.repo.InsertWateringSample(ctx, sample); err != nil {
			r.logger.Printf("history recorder: watering sample for plant %s: %v", plant.ID, err)
		}
	}
}
