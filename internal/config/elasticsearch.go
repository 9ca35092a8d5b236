package config

import (
	"time"

	"github.com/spf13/viper"
)

// ElasticsearchConfig содержит конфигурацию для подключения к Elasticsearch
type ElasticsearchConfig struct {
	URL        string        `mapstructure:"url"`
	Index      string        `mapstructure:"index"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func setElasticsearchDefaults(v *viper.Viper) {
	v.SetDefault("elasticsearch.url", "http://localhost:9200")
	v.SetDefault("elasticsearch.index", "inventory")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.max_retries", 3)
	v.SetDefault("elasticsearch.timeout", 5*time.Second)
}
