package config

const (
	// TopicIngestQuestions carries asynchronous file ingestion tasks.
	TopicIngestQuestions = "ingest.questions"

	// ChannelIndexer is the consumer channel of the ingestion worker.
	ChannelIndexer = "indexer"
)
