package mqtt

import (
	"errors"
	"testing"

	"github.com/benmeehan/crowdsense/tests/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions_PlainTCP(t *testing.T) {
	fileClient := new(mocks.MockFileOperations)
	s := NewMqttService(fileClient)

	opts, err := s.ClientOptions(Options{Broker: "tcp://localhost:1883", ClientID: "crowdsense-1", Username: "engine", Password: "secret"})
	require.NoError(t, err)

	assert.Equal(t, "crowdsense-1", opts.ClientID)
	assert.Equal(t, "engine", opts.Username)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Nil(t, opts.TLSConfig)
	fileClient.AssertNotCalled(t, "ReadFileRaw", "")
}

func TestClientOptions_CACertificateErrors(t *testing.T) {
	fileClient := new(mocks.MockFileOperations)
	fileClient.On("ReadFileRaw", "missing.pem").Return(nil, errors.New("no such file"))
	fileClient.On("ReadFileRaw", "garbage.pem").Return([]byte("not a certificate"), nil)
	s := NewMqttService(fileClient)

	_, err := s.ClientOptions(Options{Broker: "ssl://broker:8883", CACertificate: "missing.pem"})
	assert.ErrorContains(t, err, "failed to read CA certificate")

	_, err = s.ClientOptions(Options{Broker: "ssl://broker:8883", CACertificate: "garbage.pem"})
	assert.ErrorContains(t, err, "failed to append CA certificate")
}

func TestMqttService_DelegatesToClient(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	token := mocks.NewCompletedToken(nil)
	client.On("Publish", "t", byte(1), false, "payload").Return(token)
	client.On("Unsubscribe", []string{"t"}).Return(token)
	client.On("Disconnect", uint(250)).Return()

	s := &MqttService{client: client}
	assert.Equal(t, token, s.Publish("t", 1, false, "payload"))
	assert.Equal(t, token, s.Unsubscribe("t"))
	s.Disconnect(250)

	client.AssertExpectations(t)
}
