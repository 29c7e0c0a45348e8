package models

import "time"

// Dataset represents an input point cloud registered in the datasets table.
type Dataset struct {
	ID              int64     `json:"id"`
	UUID            string    `json:"uuid"`
	BucketPath      string    `json:"bucket_path"`
	AcquisitionDate time.Time `json:"acquisition_date"`
	Title           string    `json:"title,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	Visibility      string    `json:"visibility,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateDatasetRequest is the request body for registering a dataset.
type CreateDatasetRequest struct {
	BucketPath      string    `json:"bucket_path"`
	AcquisitionDate time.Time `json:"acquisition_date"`
	Title           string    `json:"title"`
	FileName        string    `json:"file_name"`
	Visibility      string    `json:"visibility"`
}
