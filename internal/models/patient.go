package models

import "time"

// Patient карточка пациента. RecordID связывает строки загружаемых CSV с пациентом.
type Patient struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RecordID    *string    `gorm:"type:varchar(64);uniqueIndex" json:"record_id,omitempty"`
	Name        string     `gorm:"type:varchar(100);not null" json:"name"`
	Gender      *string    `gorm:"type:varchar(10)" json:"gender"`
	BirthDate   *time.Time `gorm:"type:date" json:"birth_date"`
	ContactInfo *string    `gorm:"type:varchar(120)" json:"contact_info"`
	CreatedAt   time.Time  `json:"created_at"`

	Heartbeats []Heartbeat `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}

type CreatePatientRequest struct {
	Name        string  `json:"name" binding:"required"`
	Gender      *string `json:"gender" binding:"omitempty,oneof=Male Female Other Unknown"`
	BirthDate   *string `json:"birth_date" example:"1980-01-01"`
	ContactInfo *string `json:"contact_info"`
	RecordID    *string `json:"record_id"`
}

// PatientResponse формат ответа, дата рождения как YYYY-MM-DD
type PatientResponse struct {
	ID          uint      `json:"id"`
	RecordID    *string   `json:"record_id,omitempty"`
	Name        string    `json:"name"`
	Gender      *string   `json:"gender"`
	BirthDate   *string   `json:"birth_date"`
	ContactInfo *string   `json:"contact_info"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *Patient) Response() PatientResponse {
	resp := PatientResponse{
		ID:          p.ID,
		RecordID:    p.RecordID,
		Name:        p.Name,
		Gender:      p.Gender,
		ContactInfo: p.ContactInfo,
		CreatedAt:   p.CreatedAt,
	}
	if p.BirthDate != nil {
		s := p.BirthDate.Format("2006-01-02")
		resp.BirthDate = &s
	}
	return resp
}

type PatientStatus struct {
	PatientID            uint    `json:"patient_id"`
	Status               string  `json:"status" enums:"Arrhythmic,Normal"`
	MostCommonPrediction *string `json:"most_common_prediction"`
	HeartbeatCount       int64   `json:"heartbeat_count"`
}

type DashboardStats struct {
	TotalPatients         int64 `json:"total_patients"`
	TotalArrhythmias      int64 `json:"total_arrhythmias"`
	TotalHeartbeats       int64 `json:"total_heartbeats"`
	ClassifiedArrhythmias int64 `json:"classified_arrhythmias"`
}

type BulkUploadResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}
