// Package seed заполняет базу демонстрационными пациентами и размеченными
// ударами, пригодными для переобучения.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
)

var (
	firstNames = []string{"Anna", "Jan", "Maria", "Piotr", "Olga", "Ivan", "Eva", "Tomas", "Lena", "Marek"}
	lastNames  = []string{"Kowalska", "Nowak", "Ivanova", "Smirnov", "Novak", "Wisniewski", "Petrova", "Horak"}
	genders    = []string{"Male", "Female", "Other"}
)

type Options struct {
	Patients        int
	BeatsPerPatient int
	Width           int
	Seed            int64
}

type Result struct {
	Patients   int
	Heartbeats int
}

// Run создает пациентов и по BeatsPerPatient ударов каждому в одной транзакции
func Run(ctx context.Context, db *gorm.DB, vocab *ml.Vocabulary, opts Options) (*Result, error) {
	if opts.BeatsPerPatient <= 0 {
		opts.BeatsPerPatient = 100
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	now := time.Now().UTC()
	res := &Result{}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patients := repository.NewPatientRepository(tx)
		beats := repository.NewHeartbeatRepository(tx)

		for i := 0; i < opts.Patients; i++ {
			birth := now.AddDate(-20-rng.Intn(60), -rng.Intn(12), -rng.Intn(28)).Truncate(24 * time.Hour)
			gender := genders[rng.Intn(len(genders))]
			contact := fmt.Sprintf("+48 %03d %03d %03d", rng.Intn(1000), rng.Intn(1000), rng.Intn(1000))
			p := &models.Patient{
				Name:        firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
				Gender:      &gender,
				BirthDate:   &birth,
				ContactInfo: &contact,
			}
			if err := patients.Create(ctx, p); err != nil {
				return fmt.Errorf("create patient: %w", err)
			}

			batch := make([]models.Heartbeat, opts.BeatsPerPatient)
			for j := range batch {
				batch[j] = syntheticBeat(rng, vocab, p.ID, opts.Width, now)
			}
			if err := beats.CreateBatch(ctx, batch); err != nil {
				return fmt.Errorf("create heartbeats: %w", err)
			}
			res.Patients++
			res.Heartbeats += len(batch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Seeded demo data", "patients", res.Patients, "heartbeats", res.Heartbeats)
	return res, nil
}

// syntheticBeat пик QRS, положение и ширина которого зависят от класса
func syntheticBeat(rng *rand.Rand, vocab *ml.Vocabulary, patientID uint, width int, now time.Time) models.Heartbeat {
	class := 0
	if rng.Float64() > 0.6 {
		class = 1 + rng.Intn(vocab.Len()-1)
	}
	center := 0.2 + 0.1*float64(class)
	spread := 0.02 + 0.01*float64(class)

	features := make([]float64, width)
	for k := range features {
		x := float64(k) / float64(width)
		v := math.Exp(-(x-center)*(x-center)/(2*spread*spread)) + 0.05*rng.NormFloat64()
		features[k] = math.Max(0, math.Min(1, v))
	}

	label := vocab.Label(class)
	predicted := vocab.Name(class)
	confidence := math.Round((0.7+0.3*rng.Float64())*100) / 100
	preRR := 200 + 200*rng.Float64()
	postRR := 200 + 200*rng.Float64()
	qrs := 60 + 60*rng.Float64()

	return models.Heartbeat{
		PatientID: patientID,
		Timestamp: now.Add(-time.Duration(rng.Intn(100000)) * time.Second),
		LegacyFeatures: models.LegacyFeatures{
			PreRR:       &preRR,
			PostRR:      &postRR,
			QRSInterval: &qrs,
		},
		ECGFeatures:          datatypes.JSONSlice[float64](features),
		HeartbeatType:        &label,
		PredictedType:        &predicted,
		PredictionConfidence: &confidence,
	}
}
