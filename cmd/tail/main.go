package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/tickbook/config"
	"github.com/erain9/tickbook/pkg/db/queue"
	"github.com/erain9/tickbook/pkg/logging"
	"github.com/erain9/tickbook/pkg/messaging"
	"github.com/erain9/tickbook/pkg/messaging/kafka"
	"github.com/fatih/color"
	kafkago "github.com/segmentio/kafka-go"
)

// Pretty-prints the done messages a tickbook server publishes.
func main() {
	brokers := flag.String("brokers", "localhost:9092", "Comma separated Kafka brokers")
	topic := flag.String("topic", "tickbook-done", "Topic the server publishes to")
	driver := flag.String("driver", config.DriverKafkaGo, "Decoder matching the server's kafka driver: kafka-go or sarama")
	group := flag.String("group", "", "Consumer group (kafka-go only); empty joins a fresh group of its own")
	fromBeginning := flag.Bool("from-beginning", false, "Start at the oldest message when the group has no committed offset (kafka-go only)")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	color.NoColor = color.NoColor || *noColor
	logger := logging.Setup(logging.Config{Level: "info", Pretty: true, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokerList := strings.Split(*brokers, ",")
	printer := newPrinter(os.Stdout)

	var err error
	switch *driver {
	case config.DriverKafkaGo:
		var reader *kafka.DoneReader
		reader, err = kafka.NewDoneReader(kafka.ReaderConfig{
			Brokers:       brokerList,
			Topic:         *topic,
			GroupID:       *group,
			FromBeginning: *fromBeginning,
		}, logger)
		if err == nil {
			defer reader.Close()
			logger.Info().Strs("brokers", brokerList).Str("topic", *topic).Msg("Tailing with kafka-go")
			err = reader.Run(ctx, func(m kafkago.Message, done *messaging.DoneMessage) error {
				printer.print(done, m.Partition, m.Offset)
				return nil
			})
		}
	case config.DriverSarama:
		var consumer *queue.QueueMessageConsumer
		consumer, err = queue.NewQueueMessageConsumer(queue.Config{Brokers: brokerList, Topic: *topic})
		if err == nil {
			defer consumer.Close()
			logger.Info().Strs("brokers", brokerList).Str("topic", *topic).Msg("Tailing with sarama")
			err = consumer.ConsumeDoneMessages(ctx, func(m *sarama.ConsumerMessage, done *messaging.DoneMessage) error {
				printer.print(done, int(m.Partition), m.Offset)
				return nil
			})
		}
	default:
		err = fmt.Errorf("unknown driver %q", *driver)
	}

	if err != nil {
		logger.Error().Err(err).Msg("Tail stopped")
		os.Exit(1)
	}
}

type printer struct {
	w      io.Writer
	header func(a ...interface{}) string
	buy    func(a ...interface{}) string
	sell   func(a ...interface{}) string
	cancel func(a ...interface{}) string
	faint  func(a ...interface{}) string
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		header: color.New(color.FgCyan).SprintFunc(),
		buy:    color.New(color.FgGreen).SprintFunc(),
		sell:   color.New(color.FgRed).SprintFunc(),
		cancel: color.New(color.FgYellow).SprintFunc(),
		faint:  color.New(color.Faint).SprintFunc(),
	}
}

func (p *printer) print(done *messaging.DoneMessage, partition int, offset int64) {
	side := p.buy(done.Side)
	if done.Side == "SELL" {
		side = p.sell(done.Side)
	}
	event := p.header(done.Event)
	if done.Event == messaging.EventCanceled {
		event = p.cancel(done.Event)
	}

	ts := time.Unix(0, done.Timestamp).Format("15:04:05.000")
	fmt.Fprintf(p.w, "%s %s #%d %-8s %s %d @ %s exec=%d left=%d",
		p.faint(ts), done.Book, done.Sequence, event, side, done.Quantity, done.Price, done.ExecutedQty, done.RemainingQty)
	if done.OrderID != "" {
		fmt.Fprintf(p.w, " id=%s", done.OrderID)
	}
	if offset >= 0 {
		fmt.Fprintf(p.w, " %s", p.faint(fmt.Sprintf("[p%d@%d]", partition, offset)))
	}
	fmt.Fprintln(p.w)

	for _, t := range done.Trades {
		fmt.Fprintf(p.w, "    %s %d @ %s vs %s (maker left %d)\n", p.header("fill"), t.Quantity, t.Price, t.MakerOrderID, t.MakerLeft)
	}
}
