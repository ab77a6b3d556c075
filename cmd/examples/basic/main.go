package main

import (
	"context"
	"fmt"
	"os"

	"github.com/erain9/tickbook/pkg/core"
	"github.com/fatih/color"
	"github.com/nikolaydubina/fpdecimal"
)

var (
	title = color.New(color.FgCyan, color.Bold).SprintFunc()
	buy   = color.New(color.FgGreen).SprintFunc()
	sell  = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	grid, err := core.ParsePriceGrid("100.0", "110.0", "0.5")
	if err != nil {
		return err
	}
	book := core.NewOrderBook(grid)
	fmt.Println(title("Grid"), grid)

	b1, err := place(ctx, book, core.Buy, "101.0", 10)
	if err != nil {
		return err
	}
	b2, err := place(ctx, book, core.Buy, "101.0", 5)
	if err != nil {
		return err
	}
	if _, err := place(ctx, book, core.Sell, "103.0", 15); err != nil {
		return err
	}

	done, err := place(ctx, book, core.Sell, "100.5", 8)
	if err != nil {
		return err
	}
	for _, t := range done.Trades {
		fmt.Printf("  %s %d @ %s against %s (%d left)\n", title("trade"), t.Quantity, t.Price, t.MakerOrderID, t.MakerLeft)
	}

	p101 := fpdecimal.FromFloat(101)
	fmt.Printf("%s %s\n", title("Volume at 101.0 (buy):"), buy(book.GetVolumeAtPrice(p101, core.Buy)))
	if o := book.GetOrder(b1.OrderID); o != nil {
		fmt.Printf("%s %s\n", title("First buy:"), o)
	}

	if _, err := book.CancelOrder(ctx, b2.OrderID); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", title("Canceled"), faint(b2.OrderID))
	fmt.Printf("%s %s\n", title("Volume at 101.0 (buy):"), buy(book.GetVolumeAtPrice(p101, core.Buy)))

	if _, err := book.CancelOrder(ctx, b2.OrderID); err != nil {
		fmt.Printf("%s %s\n", title("Second cancel:"), faint(err))
	}

	fmt.Println()
	fmt.Println(title("Book"))
	printBook(book)

	return book.CheckInvariants()
}

func place(ctx context.Context, book *core.OrderBook, side core.Side, price string, qty int64) (*core.Done, error) {
	p, err := fpdecimal.FromString(price)
	if err != nil {
		return nil, err
	}
	done, err := book.PlaceOrder(ctx, p, qty, side)
	if err != nil {
		return nil, err
	}

	label := buy(side)
	if side == core.Sell {
		label = sell(side)
	}
	fmt.Printf("%s %s %d @ %s -> processed %d, left %d", title("Place"), label, qty, price, done.Processed, done.Left)
	if done.Stored {
		fmt.Printf(", resting as %s", faint(done.OrderID))
	}
	fmt.Println()
	return done, nil
}

func printBook(book *core.OrderBook) {
	asks := book.Depth(core.Sell, 0)
	for i := len(asks) - 1; i >= 0; i-- {
		l := asks[i]
		fmt.Printf("  %10s %8d %4d %s\n", l.Price, l.Quantity, l.Orders, sell("ASK"))
	}
	fmt.Println(faint("  ------------------------------"))
	for _, l := range book.Depth(core.Buy, 0) {
		fmt.Printf("  %10s %8d %4d %s\n", l.Price, l.Quantity, l.Orders, buy("BID"))
	}
}
