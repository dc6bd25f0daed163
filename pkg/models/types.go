package models

// Endpoint describes how to reach and authenticate against one record store.
type Endpoint struct {
	LoginURL     string `yaml:"login_url" json:"login_url"`
	APIVersion   string `yaml:"api_version" json:"api_version"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
}

// Archive is an optional MinIO target that receives a copy of every staged file.
type Archive struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Folder    string `yaml:"folder" json:"folder"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	// Insecure disables TLS towards the archive endpoint.
	Insecure  bool   `yaml:"insecure" json:"insecure"`
}

// Enabled reports whether an archive target has been configured.
func (a Archive) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

type Project struct {
	Name        string     `yaml:"name" json:"name"`
	Source      Endpoint   `yaml:"source" json:"source"`
	Destination Endpoint   `yaml:"destination" json:"destination"`
	Filter      CaseFilter `yaml:"filter" json:"filter"`
	StagingDir  string     `yaml:"staging_dir" json:"staging_dir"`
	Archive     Archive    `yaml:"archive" json:"archive"`
}
